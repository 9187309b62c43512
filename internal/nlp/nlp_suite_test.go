package nlp_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestNLP(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "NLP Adapter Suite")
}
