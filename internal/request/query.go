package request

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/odata"
)

// Query options understood on REST reads.
const (
	FilterParam  = "$filter"
	SelectParam  = "$select"
	OrderByParam = "$orderby"
	FirstParam   = "$first"
	AfterParam   = "$after"
)

// CursorField is one keyset column of a continuation token.
type CursorField struct {
	Field string `json:"field"`
	Value any    `json:"value"`
	Desc  bool   `json:"desc,omitempty"`
}

// Cursor marks the last row of a page.
type Cursor []CursorField

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() string {
	if len(c) == 0 {
		return ""
	}
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a $after token.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(token)
	}
	var c Cursor
	if err == nil {
		err = json.Unmarshal(raw, &c)
	}
	if err != nil || len(c) == 0 {
		return nil, apierr.New(apierr.BadRequest, "$after parameter is not a valid continuation token.")
	}
	return c, nil
}

// ParseFind fills the query options of a read. Unknown $-options are
// rejected; other parameters are ignored.
func ParseFind(q url.Values, pagination config.PaginationOptions, ctx *FindRequestContext) error {
	for key := range q {
		switch key {
		case FilterParam, SelectParam, OrderByParam, FirstParam, AfterParam:
		default:
			if strings.HasPrefix(key, "$") {
				return apierr.New(apierr.BadRequest, "Invalid Query Parameter: %s", key)
			}
		}
	}

	if v := strings.TrimSpace(q.Get(FilterParam)); v != "" {
		n, err := odata.ParseFilter(v)
		if err != nil {
			return err
		}
		ctx.Filter, ctx.FilterText = n, v
	}

	if v := strings.TrimSpace(q.Get(SelectParam)); v != "" {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				ctx.Fields = append(ctx.Fields, f)
			}
		}
	}

	if v := strings.TrimSpace(q.Get(OrderByParam)); v != "" {
		items, err := odata.ParseOrderBy(v)
		if err != nil {
			return err
		}
		ctx.OrderBy = items
	}

	first, err := PageSize(q.Get(FirstParam), pagination)
	if err != nil {
		return err
	}
	ctx.First = first

	after, err := DecodeCursor(q.Get(AfterParam))
	if err != nil {
		return err
	}
	ctx.After = after
	return nil
}

// PageSize resolves $first: empty means the default page size, -1 the
// maximum.
func PageSize(raw string, pagination config.PaginationOptions) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pagination.DefaultPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n == 0 || n < -1 {
		return 0, apierr.New(apierr.BadRequest,
			"Invalid number of items requested, $first must be -1 or an integer greater than 0. Actual value: %s", raw)
	}
	if n == -1 {
		return pagination.MaxPageSize, nil
	}
	if n > pagination.MaxPageSize {
		return 0, apierr.New(apierr.BadRequest,
			"Invalid number of items requested, $first cannot exceed the max page size of %d. Actual value: %s",
			pagination.MaxPageSize, raw)
	}
	return n, nil
}

// NextLink builds the continuation URL of a page.
func NextLink(base *url.URL, cursor Cursor) string {
	u := *base
	q := u.Query()
	q.Set(AfterParam, cursor.Encode())
	u.RawQuery = q.Encode()
	return u.String()
}
