package stdlib

import (
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

// registerHTTPNatives installs http_get/http_post. Network failures are
// fatal (wrapped, not soft-failed to Nil): unlike a malformed string a
// policy author hands in, a dead endpoint is an operational condition
// the caller needs to see, matching the teacher's own httpGet/httpPost
// returning an error rather than swallowing it.
func registerHTTPNatives(machine *vm.VM) {
	machine.RegisterGlobal("http_get", native("http_get", 1, func(args []value.Value) (value.Value, error) {
		url, err := wantString(args, 0, "http_get")
		if err != nil {
			return nil, err
		}
		resp, getErr := http.Get(url)
		if getErr != nil {
			return nil, errors.Wrap(getErr, "http_get")
		}
		defer resp.Body.Close()
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, errors.Wrap(readErr, "http_get")
		}
		return value.String(body), nil
	}))

	machine.RegisterGlobal("http_post", native("http_post", 2, func(args []value.Value) (value.Value, error) {
		url, err := wantString(args, 0, "http_post")
		if err != nil {
			return nil, err
		}
		body, err := wantString(args, 1, "http_post")
		if err != nil {
			return nil, err
		}
		resp, postErr := http.Post(url, "text/plain", strings.NewReader(body))
		if postErr != nil {
			return nil, errors.Wrap(postErr, "http_post")
		}
		defer resp.Body.Close()
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, errors.Wrap(readErr, "http_post")
		}
		return value.String(respBody), nil
	}))
}
