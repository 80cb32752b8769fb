package protocol

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// Method names understood on the miner side.
const (
	MethodLogin     = "login"
	MethodSubmit    = "submit"
	MethodKeepalive = "keepalived"
	MethodJob       = "job"
)

// Status strings carried in success replies.
const (
	StatusOK        = "OK"
	StatusKeepalive = "KEEPALIVED"
)

// Decoding errors.  They are per-request: the stream stays usable.
var (
	ErrParse          = errors.New("Parse error")
	ErrInvalidRequest = errors.New("Invalid JSON-RPC")
)

// Request is one decoded JSON-RPC request line.
type Request struct {
	ID     int64
	HasID  bool
	Method string
	Params gjson.Result
}

// DecodeRequest parses one request line.  On ErrInvalidRequest the
// returned Request still carries the id when one was present so the
// caller can address its error reply.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	if !gjson.ValidBytes(line) {
		return req, ErrParse
	}
	doc := gjson.ParseBytes(line)
	if !doc.IsObject() {
		return req, ErrInvalidRequest
	}

	if id := doc.Get("id"); id.Type == gjson.Number {
		req.ID = id.Int()
		req.HasID = true
	}

	method := doc.Get("method")
	if method.Type != gjson.String || method.Str == "" {
		return req, ErrInvalidRequest
	}
	req.Method = method.Str
	req.Params = doc.Get("params")
	return req, nil
}

// ── Request parameters ──────────────────────────────────────────────

// LoginParams are the fields of a login request.
type LoginParams struct {
	Login string
	Pass  string
	Agent string
	RigID string
	Algos []string
}

// ParseLogin extracts login parameters.  It fails when params is not an
// object or carries no login.
func ParseLogin(params gjson.Result) (LoginParams, error) {
	var p LoginParams
	if !params.IsObject() {
		return p, ErrInvalidRequest
	}
	p.Login = params.Get("login").String()
	if p.Login == "" {
		return p, errors.New("Invalid payment address provided")
	}
	p.Pass = params.Get("pass").String()
	p.Agent = params.Get("agent").String()
	p.RigID = params.Get("rigid").String()
	for _, a := range params.Get("algo").Array() {
		if a.Type == gjson.String && a.Str != "" {
			p.Algos = append(p.Algos, a.Str)
		}
	}
	return p, nil
}

// SubmitParams are the fields of a share submission.
type SubmitParams struct {
	ID     string
	JobID  string
	Nonce  string
	Result string
	Algo   string
}

// ParseSubmit extracts submit parameters without validating them.
func ParseSubmit(params gjson.Result) (SubmitParams, error) {
	if !params.IsObject() {
		return SubmitParams{}, ErrInvalidRequest
	}
	return SubmitParams{
		ID:     params.Get("id").String(),
		JobID:  params.Get("job_id").String(),
		Nonce:  params.Get("nonce").String(),
		Result: params.Get("result").String(),
		Algo:   params.Get("algo").String(),
	}, nil
}

// ── Replies ─────────────────────────────────────────────────────────

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	ID      int64      `json:"id"`
	JSONRPC string     `json:"jsonrpc"`
	Error   *errorBody `json:"error"`
	Result  any        `json:"result,omitempty"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// StatusResult is the result object of a plain success reply.
type StatusResult struct {
	Status string `json:"status"`
}

// LoginResult is the result object answering a login once the first job
// is known.
type LoginResult struct {
	ID         string    `json:"id"`
	Job        JobParams `json:"job"`
	Extensions []string  `json:"extensions"`
	Status     string    `json:"status"`
}

func encode(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return enc.Encode(v) // appends the '\n' delimiter
}

// AppendError writes an error reply line for request id.
func AppendError(buf *bytes.Buffer, id int64, message string) error {
	return encode(buf, response{
		ID:      id,
		JSONRPC: "2.0",
		Error:   &errorBody{Code: -1, Message: message},
	})
}

// AppendResult writes a success reply line carrying result.
func AppendResult(buf *bytes.Buffer, id int64, result any) error {
	return encode(buf, response{ID: id, JSONRPC: "2.0", Result: result})
}

// AppendStatus writes a success reply line with a status string.
func AppendStatus(buf *bytes.Buffer, id int64, status string) error {
	return AppendResult(buf, id, StatusResult{Status: status})
}

// AppendJob writes a job notification line.
func AppendJob(buf *bytes.Buffer, params JobParams) error {
	return encode(buf, notification{JSONRPC: "2.0", Method: MethodJob, Params: params})
}
