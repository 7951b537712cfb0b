package routing

import (
    "encoding/json"
    "fmt"
    "io"
    "net/http"
)

// ErrorKind classifies collaborator failures so the API layer can surface the
// right message class to the dispatcher.
type ErrorKind int

const (
    // KindUnreachable: connection-level failure, the collaborator never answered.
    KindUnreachable ErrorKind = iota
    // KindServer: the collaborator answered 5xx.
    KindServer
    // KindValidation: the collaborator answered 4xx with a structured body
    // whose message is shown to the dispatcher verbatim.
    KindValidation
)

type RemoteError struct {
    Kind    ErrorKind
    Status  int
    Message string
}

func (e *RemoteError) Error() string {
    switch e.Kind {
    case KindUnreachable:
        return "backend unreachable: " + e.Message
    case KindServer:
        return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
    default:
        return e.Message
    }
}

// classifyResponse maps a non-2xx collaborator response to a RemoteError.
// 4xx bodies are parsed as RFC7807 problems (or {"error": ...}) and the
// embedded message kept verbatim.
func classifyResponse(resp *http.Response) *RemoteError {
    body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
    if resp.StatusCode >= 500 {
        return &RemoteError{Kind: KindServer, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
    }
    msg := ""
    var prob struct {
        Title  string `json:"title"`
        Detail string `json:"detail"`
        Error  string `json:"error"`
        Msg    string `json:"message"`
    }
    if err := json.Unmarshal(body, &prob); err == nil {
        switch {
        case prob.Detail != "":
            msg = prob.Detail
        case prob.Title != "":
            msg = prob.Title
        case prob.Error != "":
            msg = prob.Error
        case prob.Msg != "":
            msg = prob.Msg
        }
    }
    if msg == "" { msg = fmt.Sprintf("request rejected (%d)", resp.StatusCode) }
    return &RemoteError{Kind: KindValidation, Status: resp.StatusCode, Message: msg}
}

func unreachable(err error) *RemoteError {
    return &RemoteError{Kind: KindUnreachable, Message: err.Error()}
}
