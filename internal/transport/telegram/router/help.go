package router

import (
	"html"
	"strings"
)

// helpText renders the command list (or one command) as Telegram HTML.
// Owner-only commands are listed only for owners.
func (r *Router) helpText(args []string, owner bool) string {
	r.mu.RLock()
	root := r.root
	var one *Command
	if len(args) > 0 {
		one = r.lookupLocked(strings.ToLower(strings.TrimPrefix(args[0], "/")))
	}
	r.mu.RUnlock()

	if len(args) > 0 {
		if one == nil || (one.Access == AccessOwnerOnly && !owner) {
			return "❓ <b>Неизвестная команда</b>\nНабери <code>/help</code>, чтобы увидеть список."
		}
		return commandHelp(one)
	}

	lines := []string{"📚 <b>Команды</b>", ""}
	var locked []string
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		if n == nil || n.cmd == nil || n.cmd.Hidden {
			continue
		}
		line := "<code>/" + html.EscapeString(name) + "</code>"
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			line += " — " + html.EscapeString(d)
		}
		if n.cmd.Access == AccessOwnerOnly {
			if owner {
				locked = append(locked, "🔒 "+line)
			}
			continue
		}
		lines = append(lines, "• "+line)
	}
	if len(locked) > 0 {
		lines = append(lines, "")
		lines = append(lines, locked...)
	}
	return strings.Join(lines, "\n")
}

func commandHelp(c *Command) string {
	lines := []string{"📚 <code>/" + html.EscapeString(c.Route) + "</code>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>Только для владельца</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		al := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, "/"+html.EscapeString(a))
		}
		lines = append(lines, "Синонимы: "+strings.Join(al, ", "))
	}
	return strings.Join(lines, "\n")
}
