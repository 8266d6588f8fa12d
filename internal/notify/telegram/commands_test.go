package telegram

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/position"
)

// fakeContext answers Sender and records Send; every other tele.Context method is unused.
type fakeContext struct {
	tele.Context
	sender *tele.User
	sent   []string
}

func (c *fakeContext) Sender() *tele.User { return c.sender }

func (c *fakeContext) Send(what interface{}, _ ...interface{}) error {
	c.sent = append(c.sent, what.(string))
	return nil
}

type fakeRouter struct {
	middleware []tele.MiddlewareFunc
	handlers   map[string]tele.HandlerFunc
}

func (r *fakeRouter) Use(middleware ...tele.MiddlewareFunc) {
	r.middleware = append(r.middleware, middleware...)
}

func (r *fakeRouter) Handle(endpoint interface{}, h tele.HandlerFunc, _ ...tele.MiddlewareFunc) {
	r.handlers[endpoint.(string)] = h
}

// dispatch runs the command handler through the registered middleware.
func (r *fakeRouter) dispatch(t *testing.T, command string, c tele.Context) {
	t.Helper()
	h, ok := r.handlers[command]
	require.True(t, ok, "no handler for %s", command)
	for i := len(r.middleware) - 1; i >= 0; i-- {
		h = r.middleware[i](h)
	}
	require.NoError(t, h(c))
}

type fakeReporter struct{}

func (fakeReporter) GetPositionStats() position.Stats {
	return position.Stats{ActiveCount: 1, CompletedCount: 2, Wins: 1, SuccessRate: 0.5, TotalRealizedPnL: decimal.RequireFromString("0.05")}
}

func (fakeReporter) ListActivePositions() []domain.TradePosition {
	p := closedPosition()
	p.Status = domain.StatusActive
	return []domain.TradePosition{p}
}

func (fakeReporter) ListFailedPositions() []domain.TradePosition { return nil }

func TestAuthorizedMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		sender  *tele.User
		reached bool
		reply   string
	}{
		{"owner", &tele.User{ID: 42}, true, "ok"},
		{"stranger", &tele.User{ID: 7}, false, "⛔ Unauthorized"},
		{"no sender", nil, false, "⛔ Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			next := func(c tele.Context) error {
				reached = true
				return c.Send("ok")
			}
			c := &fakeContext{sender: tt.sender}

			require.NoError(t, authorized(42)(next)(c))
			assert.Equal(t, tt.reached, reached)
			assert.Equal(t, []string{tt.reply}, c.sent)
		})
	}
}

func TestRegisterCommands(t *testing.T) {
	r := &fakeRouter{handlers: map[string]tele.HandlerFunc{}}
	RegisterCommands(r, fakeReporter{}, 42)

	require.Len(t, r.middleware, 1)
	assert.Len(t, r.handlers, 3)

	tests := []struct {
		command string
		sender  int64
		want    string
	}{
		{"/stats", 42, "Completed: 2 (wins 1, 50%)"},
		{"/positions", 42, "#3 MintA ACTIVE entry 0.0001 now n/a"},
		{"/failed", 42, "Failed positions: none"},
		{"/stats", 7, "⛔ Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			c := &fakeContext{sender: &tele.User{ID: tt.sender}}
			r.dispatch(t, tt.command, c)
			require.Len(t, c.sent, 1)
			assert.Contains(t, c.sent[0], tt.want)
		})
	}
}
