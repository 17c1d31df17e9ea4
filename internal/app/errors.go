package app

// DomainError is an API-facing failure. Status maps to the HTTP response
// code, Code is the stable machine-readable identifier clients branch on,
// and Details carries optional structured context (for example the step ids
// blocking an out-of-order approval).
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
