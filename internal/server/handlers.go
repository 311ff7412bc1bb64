package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"redx-pair/internal/linker"
)

const initializingMessage = "Service initializing, try again"

type pairQuery struct {
	Number string `form:"number" binding:"required,phone"`
}

func (s *Server) handlePair(c *gin.Context) {
	if !s.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": initializingMessage})
		return
	}

	var q pairQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		msg := "Invalid number"
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "required" {
			msg = "Phone number required"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	code, err := s.linker.Pair(c.Request.Context(), q.Number)
	if err != nil {
		if unavailable(err) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": initializingMessage})
			return
		}
		s.log.Error("Pairing code error", zap.String("request_id", c.GetString("request_id")), zap.Error(err))
		msg := "Failed to get code"
		if errors.Is(err, linker.ErrSetup) {
			msg = "Service unavailable"
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code})
}

func (s *Server) handleQR(c *gin.Context) {
	if !s.Ready() {
		c.String(http.StatusServiceUnavailable, initializingMessage)
		return
	}

	png, err := s.linker.QR(c.Request.Context())
	if err != nil {
		if unavailable(err) {
			c.String(http.StatusServiceUnavailable, initializingMessage)
			return
		}
		s.log.Error("QR error", zap.String("request_id", c.GetString("request_id")), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":         "redx-pair",
		"version":         s.version,
		"ready":           s.Ready(),
		"active_sessions": s.linker.Active(),
		"uptime":          time.Since(s.started).Round(time.Second).String(),
		"timestamp":       time.Now().Unix(),
	})
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
	<title>RED X Pair</title>
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<style>
		body { font-family: Arial, sans-serif; text-align: center; padding: 20px; background: #f5f5f5; }
		.container { max-width: 420px; margin: 0 auto; background: white; padding: 30px; border-radius: 10px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
		.code { font-family: monospace; font-size: 28px; letter-spacing: 4px; margin: 15px 0; }
		img { border: 1px solid #ddd; padding: 10px; background: white; margin-top: 15px; }
	</style>
</head>
<body>
	<div class="container">
		<h2>Link WhatsApp</h2>
		<form id="pair">
			<input name="number" placeholder="Phone number with country code">
			<button type="submit">Get pairing code</button>
		</form>
		<div class="code" id="code"></div>
		<p>or</p>
		<button id="scan">Show QR code</button>
		<div id="qr"></div>
		<p><small>The session id is sent to your own WhatsApp chat once the device is linked.</small></p>
	</div>
	<script>
		document.getElementById('pair').addEventListener('submit', async (e) => {
			e.preventDefault();
			const number = e.target.number.value;
			const out = document.getElementById('code');
			out.textContent = '...';
			const res = await fetch('/pair?number=' + encodeURIComponent(number));
			const body = await res.json();
			out.textContent = body.code || body.error;
		});
		document.getElementById('scan').addEventListener('click', () => {
			document.getElementById('qr').innerHTML = '<img src="/qr?t=' + Date.now() + '" alt="QR Code">';
		});
	</script>
</body>
</html>
`
