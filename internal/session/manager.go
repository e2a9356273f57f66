package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/flowglad/flowglad/internal/config"
	"github.com/gin-gonic/gin"
)

const (
	DefaultCookieName  = "_sid"
	CustomerCookieName = "_csid"
)

// Manager manages auth session cookies.
type Manager struct {
	cookieName         string
	customerCookieName string
	secure             bool
}

func NewManager(cfg config.Config) *Manager {
	return &Manager{
		cookieName:         DefaultCookieName,
		customerCookieName: CustomerCookieName,
		secure:             cfg.AuthCookieSecure,
	}
}

func (m *Manager) CookieName() string { return m.cookieName }

func (m *Manager) CustomerCookieName() string { return m.customerCookieName }

func (m *Manager) ReadToken(c *gin.Context) (string, bool) {
	return m.read(c, m.cookieName)
}

func (m *Manager) ReadCustomerToken(c *gin.Context) (string, bool) {
	return m.read(c, m.customerCookieName)
}

func (m *Manager) read(c *gin.Context, name string) (string, bool) {
	token, err := c.Cookie(name)
	if err != nil {
		return "", false
	}
	if strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}

func (m *Manager) Set(c *gin.Context, value string, expiresAt time.Time) {
	m.set(c, m.cookieName, value, expiresAt)
}

func (m *Manager) SetCustomer(c *gin.Context, value string, expiresAt time.Time) {
	m.set(c, m.customerCookieName, value, expiresAt)
}

func (m *Manager) set(c *gin.Context, name, value string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", m.secure, true)
}

func (m *Manager) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, "", -1, "/", "", m.secure, true)
	c.SetCookie(m.customerCookieName, "", -1, "/", "", m.secure, true)
}
