// Package dynamo provides core primitives for trajectory optimization of
// dynamical systems.
//
// The package defines the fundamental interfaces and types shared by the
// transcription, derivative and solver layers:
//
//   - [State]: vector representing system state
//   - [Control]: vector of control inputs
//   - [System]: interface for ODE systems (dX/dt = f(t, X, u, p))
//   - [IntegrandCoster], [EndpointCoster], [PathConstrainer]: optional
//     capabilities a system may implement to contribute cost terms and
//     path constraints
//
// # Example
//
//	sys := models.NewPendulum()
//	prob := problem.FromSystem("swing-up", sys)
//	res, _ := trajopt.New(trajopt.DefaultOptions()).Solve(ctx, prob, sys, mesh.MustUniform(51))
//
// # Thread Safety
//
// Systems are evaluated concurrently by the derivative engine. Every method
// of a [System] and its optional capabilities must be a pure function of its
// arguments. Implementations that cache internally must keep the cache
// worker-local or guard it with their own lock.
package dynamo
