package router

import (
	"strings"
	"unicode/utf8"

	kit "songbot/internal/transport"
)

// Telegram command names are restricted to [a-z0-9_]{1,32}.
func validMenuCommand(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// buildMenu lists visible top-level commands, /start first. Owner-only
// commands stay in the menu with a lock so owners can autocomplete them.
func buildMenu(root *cmdNode) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(root.children))
	add := func(n *cmdNode) {
		if n == nil || n.cmd == nil || n.cmd.Hidden || !validMenuCommand(n.name) {
			return
		}
		desc := strings.ReplaceAll(strings.TrimSpace(n.cmd.Description), "\n", " ")
		if desc == "" {
			desc = n.name
		}
		if n.cmd.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		// descriptions are capped at 256 characters
		for utf8.RuneCountInString(desc) > 256 {
			_, size := utf8.DecodeLastRuneInString(desc)
			desc = desc[:len(desc)-size]
		}
		out = append(out, kit.BotCommand{Command: n.name, Description: desc})
	}

	if n, ok := root.child("start"); ok {
		add(n)
	}
	for _, name := range root.childNames() {
		if name == "start" {
			continue
		}
		n, _ := root.child(name)
		add(n)
		if len(out) >= 100 {
			break
		}
	}
	return out
}
