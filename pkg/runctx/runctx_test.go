/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package runctx

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRunctx(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Runctx Suite")
}

var _ = Describe("Create", func() {
	It("should mint a non-empty run id and trace id", func() {
		run := Create()
		Expect(string(run.RunID)).NotTo(BeEmpty())
		Expect(run.TraceID).NotTo(BeEmpty())
	})

	It("should mint distinct trace ids across calls", func() {
		a := Create()
		b := Create()
		Expect(a.TraceID).NotTo(Equal(b.TraceID))
	})
})
