package auth_test

import (
	"encoding/json"

	"github.com/goliatone/go-router"
)

// requestMock is a router mock with a fixed URL and a cookie jar, so
// redirect bookkeeping can be asserted on directly.
type requestMock struct {
	*router.MockContext
	url     string
	body    []byte
	jar     map[string]string
	written []*router.Cookie
}

func newRequestMock(url string) *requestMock {
	return &requestMock{
		MockContext: router.NewMockContext(),
		url:         url,
		jar:         map[string]string{},
	}
}

func (m *requestMock) OriginalURL() string {
	return m.url
}

// withBody sets the JSON request body decoded by Bind.
func (m *requestMock) withBody(v any) *requestMock {
	m.body, _ = json.Marshal(v)
	return m
}

func (m *requestMock) Bind(v any) error {
	if len(m.body) == 0 {
		return nil
	}
	return json.Unmarshal(m.body, v)
}

func (m *requestMock) Cookies(key string, defaultValue ...string) string {
	if v, ok := m.jar[key]; ok && v != "" {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (m *requestMock) Cookie(cookie *router.Cookie) {
	m.written = append(m.written, cookie)
	m.jar[cookie.Name] = cookie.Value
}

func (m *requestMock) lastCookie(name string) *router.Cookie {
	for i := len(m.written) - 1; i >= 0; i-- {
		if m.written[i].Name == name {
			return m.written[i]
		}
	}
	return nil
}
