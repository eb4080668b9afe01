package errors

import (
	"net/http"
	"testing"

	gfe "github.com/go-faster/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestErrors(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Errors Suite")
}

var _ = Describe("Pipeline error taxonomy", func() {
	Describe("PipelineError", func() {
		Context("basic error creation", func() {
			It("should create error with correct properties", func() {
				err := New(ErrorTypeValidation, "test message")

				Expect(err.Type).To(Equal(ErrorTypeValidation))
				Expect(err.Message).To(Equal("test message"))
				Expect(err.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(err.Details).To(BeEmpty())
				Expect(err.Cause).To(BeNil())
			})

			It("should implement error interface correctly", func() {
				err := New(ErrorTypeValidation, "test message")

				Expect(err.Error()).To(Equal("validation: test message"))
			})

			It("should include details in error string when present", func() {
				err := New(ErrorTypeValidation, "test message").WithDetails("extra info")

				Expect(err.Error()).To(Equal("validation: test message (extra info)"))
			})
		})

		Context("error wrapping", func() {
			It("should wrap underlying error", func() {
				originalErr := gfe.New("original error")
				wrappedErr := Wrap(originalErr, ErrorTypeTransport, "operation failed")

				Expect(wrappedErr.Type).To(Equal(ErrorTypeTransport))
				Expect(wrappedErr.Message).To(Equal("operation failed"))
				Expect(gfe.Is(wrappedErr.Unwrap(), originalErr)).To(BeTrue())
			})

			It("should format wrapped error with arguments", func() {
				originalErr := gfe.New("connection refused")
				wrappedErr := Wrapf(originalErr, ErrorTypeTransport, "failed to connect to %s:%d", "localhost", 5432)

				Expect(wrappedErr.Message).To(Equal("failed to connect to localhost:5432"))
			})
		})

		Context("adding details", func() {
			It("should add details to existing error", func() {
				err := New(ErrorTypeOperatorGuard, "refusing bulk retry")
				detailedErr := err.WithDetails("no filters and no --force")

				Expect(detailedErr.Details).To(Equal("no filters and no --force"))
				Expect(detailedErr).To(BeIdenticalTo(err))
			})

			It("should add formatted details", func() {
				err := New(ErrorTypeOperatorGuard, "refusing bulk retry")
				detailedErr := err.WithDetailsf("matched %d rows, threshold %d", 42, 20)

				Expect(detailedErr.Details).To(Equal("matched 42 rows, threshold 20"))
			})
		})
	})

	Describe("HTTP status mapping", func() {
		It("should map each category to a status code", func() {
			testCases := []struct {
				errorType  ErrorType
				statusCode int
			}{
				{ErrorTypeConfig, http.StatusBadRequest},
				{ErrorTypeTransport, http.StatusBadGateway},
				{ErrorTypeValidation, http.StatusUnprocessableEntity},
				{ErrorTypeConsistency, http.StatusConflict},
				{ErrorTypeOperatorGuard, http.StatusPreconditionRequired},
			}

			for _, tc := range testCases {
				err := New(tc.errorType, "test message")
				Expect(err.StatusCode).To(Equal(tc.statusCode))
			}
		})
	})

	Describe("predefined constructors", func() {
		It("should create a validation error", func() {
			err := NewValidationErrorf("record count mismatch: metadata=%d actual=%d", 10, 8)

			Expect(err.Type).To(Equal(ErrorTypeValidation))
			Expect(err.Message).To(Equal("record count mismatch: metadata=10 actual=8"))
		})

		It("should create a transport error wrapping the cause", func() {
			cause := gfe.New("no such file")
			err := NewTransportError("read payload", cause)

			Expect(err.Type).To(Equal(ErrorTypeTransport))
			Expect(err.Message).To(ContainSubstring("read payload"))
		})

		It("should create a config error", func() {
			err := NewConfigError("query \"missing\" is not defined")

			Expect(err.Type).To(Equal(ErrorTypeConfig))
		})

		It("should create a consistency error", func() {
			err := NewConsistencyError("authority conflict for partition")

			Expect(err.Type).To(Equal(ErrorTypeConsistency))
		})

		It("should create an operator guard error", func() {
			err := NewOperatorGuardError("Refusing to retry everything without --force. Provide filters or use --force.")

			Expect(err.Type).To(Equal(ErrorTypeOperatorGuard))
		})
	})

	Describe("error type checking", func() {
		It("should correctly identify error types", func() {
			validationErr := NewValidationError("test")
			guardErr := NewOperatorGuardError("test")

			Expect(IsType(validationErr, ErrorTypeValidation)).To(BeTrue())
			Expect(IsType(validationErr, ErrorTypeOperatorGuard)).To(BeFalse())
			Expect(IsType(guardErr, ErrorTypeOperatorGuard)).To(BeTrue())
		})

		It("should treat unclassified errors as consistency errors", func() {
			regularErr := gfe.New("regular error")

			Expect(IsType(regularErr, ErrorTypeValidation)).To(BeFalse())
			Expect(GetType(regularErr)).To(Equal(ErrorTypeConsistency))
		})

		It("should get correct status codes", func() {
			validationErr := NewValidationError("test")
			regularErr := gfe.New("regular error")

			Expect(GetStatusCode(validationErr)).To(Equal(http.StatusUnprocessableEntity))
			Expect(GetStatusCode(regularErr)).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("logging fields", func() {
		It("should generate structured logging fields", func() {
			originalErr := gfe.New("connection failed")
			pErr := Wrapf(originalErr, ErrorTypeTransport, "query failed").
				WithDetails("table: partition_state")

			fields := LogFields(pErr)

			Expect(fields).To(HaveKey("error"))
			Expect(fields).To(HaveKey("error_type"))
			Expect(fields).To(HaveKey("status_code"))
			Expect(fields).To(HaveKey("error_details"))
			Expect(fields).To(HaveKey("underlying_error"))

			Expect(fields["error_type"]).To(Equal("transport"))
			Expect(fields["status_code"]).To(Equal(http.StatusBadGateway))
			Expect(fields["error_details"]).To(Equal("table: partition_state"))
		})

		It("should handle a PipelineError without details", func() {
			err := NewValidationError("invalid input")
			fields := LogFields(err)

			Expect(fields).To(HaveKey("error"))
			Expect(fields).To(HaveKey("error_type"))
			Expect(fields).To(HaveKey("status_code"))
			Expect(fields).NotTo(HaveKey("error_details"))
			Expect(fields).NotTo(HaveKey("underlying_error"))
		})

		It("should handle regular errors", func() {
			err := gfe.New("regular error")
			fields := LogFields(err)

			Expect(fields).To(HaveKey("error"))
			Expect(fields).NotTo(HaveKey("error_type"))
		})
	})

	Describe("error chaining", func() {
		It("should handle an empty error list", func() {
			err := Chain()
			Expect(err).To(BeNil())
		})

		It("should handle a single error", func() {
			originalErr := gfe.New("single error")
			err := Chain(originalErr)

			Expect(err.Error()).To(Equal(originalErr.Error()))
		})

		It("should filter nil errors", func() {
			err1 := gfe.New("error 1")
			err2 := gfe.New("error 2")

			err := Chain(err1, nil, err2, nil)

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("error 1"))
			Expect(err.Error()).To(ContainSubstring("error 2"))
		})

		It("should chain multiple errors", func() {
			err1 := gfe.New("first error")
			err2 := gfe.New("second error")
			err3 := gfe.New("third error")

			chainedErr := Chain(err1, err2, err3)

			Expect(chainedErr).To(HaveOccurred())
			errMsg := chainedErr.Error()
			Expect(errMsg).To(ContainSubstring("first error"))
			Expect(errMsg).To(ContainSubstring("second error"))
			Expect(errMsg).To(ContainSubstring("third error"))
			Expect(errMsg).To(ContainSubstring(" -> "))
		})

		It("should return nil when all errors are nil", func() {
			err := Chain(nil, nil, nil)
			Expect(err).To(BeNil())
		})
	})

	Describe("error type constants", func() {
		It("should have all expected error types defined", func() {
			expectedTypes := []ErrorType{
				ErrorTypeConfig,
				ErrorTypeTransport,
				ErrorTypeValidation,
				ErrorTypeConsistency,
				ErrorTypeOperatorGuard,
			}

			for _, errorType := range expectedTypes {
				Expect(string(errorType)).NotTo(BeEmpty())
			}
		})
	})
})
