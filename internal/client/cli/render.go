package cli

import (
	"fmt"
	"time"

	"github.com/saytro/saytro/internal/client/models"
)

// FormatMessageTime renders a message timestamp: clock time for today,
// weekday and clock time within the last week, full date otherwise.
func FormatMessageTime(t, now time.Time) string {
	t = t.Local()
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Local().Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return t.Format("15:04")
	}
	if now.Sub(t) < 7*24*time.Hour {
		return t.Format("Mon 15:04")
	}
	return t.Format("Jan 2, 2006 15:04")
}

// FormatLastSeen renders a profile's presence line.
func FormatLastSeen(online bool, lastSeen time.Time, now time.Time) string {
	if online {
		return "online"
	}
	if lastSeen.IsZero() {
		return "offline"
	}
	d := now.Sub(lastSeen)
	switch {
	case d < time.Minute:
		return "last seen just now"
	case d < time.Hour:
		return fmt.Sprintf("last seen %dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("last seen %dh ago", int(d.Hours()))
	default:
		return "last seen " + lastSeen.Local().Format("Jan 2")
	}
}

func renderPresence(p *models.Profile) string {
	return FormatLastSeen(p.IsOnline, p.LastSeen, time.Now())
}

func renderUser(p models.Profile) string {
	return fmt.Sprintf("%-16s %-24s %s", p.Username, p.FullName, FormatLastSeen(p.IsOnline, p.LastSeen, time.Now()))
}

// renderMessage formats one thread line, marking the user's own messages.
// Safe to call from the change-feed delivery goroutine.
func (a *App) renderMessage(m models.Message) string {
	a.mu.Lock()
	profile, peer := a.profile, a.peer
	a.mu.Unlock()

	who := "them"
	if profile != nil && m.SenderID == profile.ID {
		who = "you"
	} else if peer != nil && m.SenderID == peer.ID {
		who = peer.DisplayName()
	}
	return fmt.Sprintf("[%s] %s: %s", FormatMessageTime(m.CreatedAt, time.Now()), who, m.Content)
}
