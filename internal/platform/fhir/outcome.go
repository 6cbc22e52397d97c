package fhir

import "fmt"

// MethodNotAllowedOutcome creates a 405-style OperationOutcome for an HTTP
// method that is not permitted on the target resource endpoint. Write
// interactions rejected against a read-only upstream use this.
func MethodNotAllowedOutcome(method string) *OperationOutcome {
	return NewOperationOutcome(
		IssueSeverityError,
		IssueTypeNotSupported,
		fmt.Sprintf("HTTP method %s is not allowed on this resource", method),
	)
}
