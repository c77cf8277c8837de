package communication

// SandCode is the transport-independent status carried by every Response.
type SandCode string

const (
	CodeOK            SandCode = "OK"
	CodeBadRequest    SandCode = "BAD_REQUEST"
	CodeNotFound      SandCode = "NOT_FOUND"
	CodeAlreadyExists SandCode = "ALREADY_EXISTS"
	CodeNotDir        SandCode = "NOT_DIR"
	CodeIsDir         SandCode = "IS_DIR"
	CodeNotEmpty      SandCode = "NOT_EMPTY"
	CodeInvalid       SandCode = "INVALID"
	CodeInternal      SandCode = "INTERNAL"
	CodeUnavailable   SandCode = "UNAVAILABLE"
)
