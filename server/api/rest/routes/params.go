package routes

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/gerror"
)

// IntParam extracts an int from the url parameters on the supplied request.
func IntParam(r *http.Request, key string) (int64, error) {
	idStr := chi.URLParam(r, key)
	if idStr == "" {
		return 0, fmt.Errorf("error %q param does not exist", key)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return -1, errors.Wrap(err, "error parsing int param")
	}
	return id, nil
}

// Page is the page-number pagination read from the query string.
type Page struct {
	Search string
	Number int
	Size   int
}

// ParsePage reads q, page and page_size from the query values. Page numbers
// start at 1 and the default page size is 10.
func ParsePage(values url.Values) (Page, error) {
	page := Page{Search: values.Get("q"), Number: 1, Size: 10}
	if raw := values.Get("page"); raw != "" {
		number, err := strconv.Atoi(raw)
		if err != nil || number < 1 {
			return page, gerror.NewErrInvalidQueryParameter(fmt.Sprintf("Invalid page %q", raw))
		}
		page.Number = number
	}
	if raw := values.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return page, gerror.NewErrInvalidQueryParameter(fmt.Sprintf("Invalid page_size %q", raw))
		}
		page.Size = size
	}
	return page, nil
}

// Slice returns the bounds of the page within a list of length total.
func (p Page) Slice(total int) (low, high int) {
	low = p.Size * (p.Number - 1)
	if low > total {
		low = total
	}
	high = p.Size * p.Number
	if high > total {
		high = total
	}
	return low, high
}
