package server

import (
	"fmt"

	"github.com/fatih/color"

	"chatrelay/internal/llmerr"
)

func (s *Server) printStartupBanner() {
	host := "127.0.0.1"
	port := s.cfg.Server.Port

	title := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(s.banner)
	title.Fprintln(s.banner, "chatrelay ready")
	fmt.Fprintf(s.banner, "Listening on http://%s:%d\n", host, port)

	if s.configErr != nil {
		yellow.Fprintln(s.banner, "Model configuration failed; chat endpoints will answer 503.")
		fmt.Fprintf(s.banner, "  %s\n", llmerr.RedactError(s.configErr))
	} else {
		fmt.Fprintf(s.banner, "Default model: %s\n", green.Sprint(s.catalog.Default().ID))
	}

	fmt.Fprintln(s.banner, "Endpoints:")
	fmt.Fprintln(s.banner, "  GET    /api/health")
	fmt.Fprintln(s.banner, "  GET    /api/models")
	fmt.Fprintln(s.banner, "  POST   /api/chat")
	fmt.Fprintln(s.banner, "  POST   /api/chat/stream")
	fmt.Fprintln(s.banner, "  GET    /api/conversations")
	fmt.Fprintln(s.banner, "  POST   /api/conversations")
	fmt.Fprintln(s.banner, "  GET    /api/conversations/:id")
	fmt.Fprintln(s.banner, "  PUT    /api/conversations/:id")
	fmt.Fprintln(s.banner, "  DELETE /api/conversations/:id")
	fmt.Fprintf(s.banner, "Example:\n  curl -N http://%s:%d/api/chat/stream -H 'Content-Type: application/json' -d '{\"message\":\"hello\"}'\n\n", host, port)
}
