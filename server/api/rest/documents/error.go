package documents

import "github.com/molior-deb/molior/common/gerror"

// ErrorDocument is the standard error representation returned by the API.
type ErrorDocument struct {
	Code           gerror.Code `json:"code"`
	HTTPStatusCode int         `json:"http_status_code"`
	Message        string      `json:"message"`
}
