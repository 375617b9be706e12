package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code. The gateway itself only ever emits
// the protocol-level codes below; application codes pass through opaquely.
type ErrorCode int

// Protocol-level error codes from the JSON-RPC 2.0 specification.
const (
	ErrorCodeParseError     ErrorCode = -32700 // body was not parseable JSON
	ErrorCodeInvalidRequest ErrorCode = -32600 // JSON was not a valid request object
	ErrorCodeMethodNotFound ErrorCode = -32601
	ErrorCodeInvalidParams  ErrorCode = -32602
	ErrorCodeInternalError  ErrorCode = -32603
)
