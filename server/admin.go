package server

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/tracing"
)

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>yahoo forwarder</title>
<style>
body { font-family: monospace; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
td, th { border: 1px solid #999; padding: 4px 10px; text-align: left; }
pre { background: #f4f4f4; padding: 1em; overflow-x: auto; }
.bad { color: #b00; }
.ok { color: #080; }
</style>
</head>
<body>
<h1>yahoo forwarder</h1>
<p>{{.Account}} &rarr; gmail ({{.GmailUser}})</p>

<h2>gmail token</h2>
<table>
<tr><th>present</th><td>{{.Token.Present}}</td></tr>
<tr><th>valid</th><td class="{{if .Token.Valid}}ok{{else}}bad{{end}}">{{.Token.Valid}}</td></tr>
<tr><th>expiry</th><td>{{.TokenExpiry}}</td></tr>
<tr><th>last access token refresh</th><td>{{.TokenLastRefresh}}</td></tr>
<tr><th>refresh token updated</th><td>{{.TokenRTUpdated}}</td></tr>
</table>
{{if not .Token.Valid}}<p class="bad">No usable credential. POST /oauth_url for the consent link, then POST the code to /oauth_exchange.</p>{{end}}

<h2>messages</h2>
<table>
{{range .States}}<tr><th>{{.Name}}</th><td>{{.Count}}</td></tr>
{{end}}
</table>
<table>
<tr><th>last inserted</th><td>{{.LastInserted}}</td></tr>
<tr><th>last source delete</th><td>{{.LastDeleted}}</td></tr>
<tr><th>last error</th><td>{{.LastError}}</td></tr>
</table>

<h2>recent alerts</h2>
<table>
{{range .Alerts}}<tr><td>{{.CreatedAt.Format "2006-01-02 15:04:05"}}</td><td>{{.Kind}}</td><td>{{.Title}}</td><td>{{if .Success}}sent{{else}}not sent{{end}}</td></tr>
{{else}}<tr><td>none</td></tr>
{{end}}
</table>

<h2>recent log lines</h2>
<pre>{{range .LogLines}}{{.}}
{{end}}</pre>
</body>
</html>
`))

type stateRow struct {
	Name  string
	Count int64
}

type statusPage struct {
	Account          string
	GmailUser        string
	Token            tokenView
	TokenExpiry      string
	TokenLastRefresh string
	TokenRTUpdated   string
	States           []stateRow
	LastInserted     string
	LastDeleted      string
	LastError        string
	Alerts           []*models.Alert
	LogLines         []string
}

type tokenView struct {
	Present bool
	Valid   bool
}

func (s *Server) registerAdminRoutes(ctx context.Context) {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.router.GET("/",
		tracing.TracingEnhancer(ctx, "GET /"),
		s.statusHandler)

	s.router.POST("/oauth_url",
		tracing.TracingEnhancer(ctx, "POST /oauth_url"),
		func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"url": s.gmailManager.AuthURL()})
		})

	s.router.POST("/oauth_exchange",
		tracing.TracingEnhancer(ctx, "POST /oauth_exchange"),
		s.oauthExchangeHandler)
}

func (s *Server) statusHandler(c *gin.Context) {
	ctx := c.Request.Context()

	token := s.gmailManager.TokenStatus(ctx)
	page := statusPage{
		Account:          s.config.AppConfig.YahooEmail,
		GmailUser:        s.config.AppConfig.GmailUser,
		Token:            tokenView{Present: token.Present, Valid: token.Valid},
		TokenExpiry:      formatTime(token.Expiry),
		TokenLastRefresh: formatTime(token.LastRefreshAt),
		TokenRTUpdated:   formatTime(token.RefreshTokenUpdatedAt),
		LogLines:         logger.RecentLogLines(20),
	}

	counts, err := s.repositories.MessageRepository.CountByState(ctx)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load state counts: %v", err)
		return
	}
	for _, state := range []enum.MessageState{
		enum.MessageStateFetched,
		enum.MessageStateInserting,
		enum.MessageStateInserted,
		enum.MessageStateFailedRetry,
		enum.MessageStateFailedPerm,
	} {
		page.States = append(page.States, stateRow{Name: string(state), Count: counts[state]})
	}

	if msg, err := s.repositories.MessageRepository.LastInserted(ctx); err == nil && msg != nil {
		page.LastInserted = msg.CorrelationID() + " at " + msg.UpdatedAt.Format(time.RFC3339)
	}
	if msg, err := s.repositories.MessageRepository.LastYahooDeleted(ctx); err == nil && msg != nil && msg.YahooDeletedAt != nil {
		page.LastDeleted = msg.CorrelationID() + " at " + msg.YahooDeletedAt.Format(time.RFC3339)
	}
	if msg, err := s.repositories.MessageRepository.LastErrored(ctx); err == nil && msg != nil && msg.LastError != nil {
		page.LastError = msg.CorrelationID() + ": " + *msg.LastError
	}

	if alerts, err := s.repositories.AlertRepository.Recent(ctx, 10); err == nil {
		page.Alerts = alerts
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := statusTemplate.Execute(c.Writer, page); err != nil {
		s.log.Errorf("Failed to render status page: %v", err)
	}
}

type oauthExchangeRequest struct {
	Code string `json:"code" form:"code"`
}

// oauthExchangeHandler accepts either a bare authorization code or the full
// redirect URL the operator pasted.
func (s *Server) oauthExchangeHandler(c *gin.Context) {
	var req oauthExchangeRequest
	if err := c.ShouldBind(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}

	if err := s.gmailManager.ExchangeCode(c.Request.Context(), req.Code); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "authorized"})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
