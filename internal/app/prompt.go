package app

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/petervdpas/goopcall/internal/config"
)

// PromptInteractive walks through the settings a new client needs. Invalid
// answers leave cfg unchanged.
func PromptInteractive(r io.Reader, w io.Writer, peerDir, cfgPath string, cfg config.Config) config.Config {
	in := bufio.NewReader(r)

	fmt.Fprintln(w, "────────────────────────────────────────")
	fmt.Fprintln(w, "goopcall interactive setup")
	fmt.Fprintf(w, " Peer folder : %s\n", peerDir)
	fmt.Fprintf(w, " Config file : %s\n", cfgPath)
	fmt.Fprintln(w, "────────────────────────────────────────")
	fmt.Fprintln(w)

	next := cfg
	next.Identity.ID = askString(in, w, "User id", next.Identity.ID)
	next.Identity.DisplayName = askString(in, w, "Display name", next.Identity.DisplayName)
	next.Identity.Email = askString(in, w, "Email (empty=none)", next.Identity.Email)

	next.Relay.Backend = askString(in, w, "Relay backend (memory/sqlite/redis/ws)", next.Relay.Backend)
	switch next.Relay.Backend {
	case config.BackendSQLite:
		next.Relay.SQLitePath = askString(in, w, "Shared relay database", next.Relay.SQLitePath)
	case config.BackendRedis:
		next.Relay.RedisAddr = askString(in, w, "Redis address", next.Relay.RedisAddr)
	case config.BackendWS:
		next.Relay.URL = askString(in, w, "Relay URL (ws://host:port/ws)", next.Relay.URL)
	}

	synthetic := askBool(in, w, "Headless (synthetic media, no devices)", next.Media.Capture == config.CaptureSynthetic)
	next.Media.Capture = config.CaptureDevice
	if synthetic {
		next.Media.Capture = config.CaptureSynthetic
	}
	next.Viewer.HTTPAddr = askString(in, w, "Viewer HTTP addr (empty=off)", next.Viewer.HTTPAddr)
	next.Server.Port = askInt(in, w, "Relay server port (goopcall relay)", next.Server.Port)

	if err := next.Validate(); err != nil {
		fmt.Fprintf(w, "Invalid config: %v\nKeeping previous settings.\n", err)
		return cfg
	}
	return next
}

func askString(in *bufio.Reader, w io.Writer, label, def string) string {
	fmt.Fprintf(w, "%s [%s]: ", label, def)
	s, _ := in.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func askInt(in *bufio.Reader, w io.Writer, label string, def int) int {
	for {
		fmt.Fprintf(w, "%s [%d]: ", label, def)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(s)
		if s == "" {
			return def
		}
		if v, convErr := strconv.Atoi(s); convErr == nil {
			return v
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(w, "Please enter a number.")
	}
}

func askBool(in *bufio.Reader, w io.Writer, label string, def bool) bool {
	defStr := "n"
	if def {
		defStr = "y"
	}
	for {
		fmt.Fprintf(w, "%s [y/n] (default=%s): ", label, defStr)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			return def
		}
		switch s {
		case "y", "yes", "true", "1":
			return true
		case "n", "no", "false", "0":
			return false
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(w, "Please enter y or n.")
	}
}
