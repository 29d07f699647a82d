// Package tray provides a system tray menu for switching annotation modes.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/drishti/internal/mode"
)

// Tray represents the system tray application.
type Tray struct {
	onSelect func(slug string)
	onStop   func()
	onOpen   func()
	onQuit   func()
	mu       sync.RWMutex

	modes   []mode.Mode
	current string
	status  string

	// Menu items stored for later updates
	menuStatus *systray.MenuItem
	menuModes  map[string]*systray.MenuItem
	menuStop   *systray.MenuItem
}

// New creates a new Tray listing every mode.
func New() *Tray {
	return &Tray{
		modes:     mode.All(),
		status:    "Idle",
		menuModes: make(map[string]*systray.MenuItem),
	}
}

// OnSelect sets the callback invoked with the slug of a chosen mode.
func (t *Tray) OnSelect(fn func(slug string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSelect = fn
}

// OnStop sets the callback invoked when the user leaves the current mode.
func (t *Tray) OnStop(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStop = fn
}

// OnOpen sets the callback invoked to open the web view.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback invoked before the tray exits.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray, unblocking Run.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Drishti")
	systray.SetTooltip("Drishti live annotation")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(t.status, "Current mode state")
	t.menuStatus.Disable()
	systray.AddSeparator()

	for _, m := range t.modes {
		item := systray.AddMenuItemCheckbox(m.Title, "Switch to "+m.Title, m.Slug == t.current)
		t.menuModes[m.Slug] = item
		go t.watchMode(m.Slug, item)
	}
	systray.AddSeparator()

	t.menuStop = systray.AddMenuItem("Stop", "Leave the current mode")
	if t.current == "" {
		t.menuStop.Disable()
	}
	t.mu.Unlock()

	menuOpen := systray.AddMenuItem("Open in Browser...", "Open the live view")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit Drishti")

	go func() {
		for {
			select {
			case <-t.menuStop.ClickedCh:
				t.handleStop()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) watchMode(slug string, item *systray.MenuItem) {
	for range item.ClickedCh {
		t.handleSelect(slug)
	}
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

func (t *Tray) handleSelect(slug string) {
	t.mu.RLock()
	callback := t.onSelect
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(slug)
	}
}

func (t *Tray) handleStop() {
	t.mu.RLock()
	callback := t.onStop
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetMode marks slug as the mounted mode and shows message as its state.
// An empty slug means nothing is mounted.
func (t *Tray) SetMode(slug, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = slug
	t.status = statusTitle(t.modes, slug, message)

	if t.menuStatus != nil {
		t.menuStatus.SetTitle(t.status)
	}
	for s, item := range t.menuModes {
		if s == slug {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
	if t.menuStop != nil {
		if slug == "" {
			t.menuStop.Disable()
		} else {
			t.menuStop.Enable()
		}
	}
}

// Status returns the status line shown in the menu.
func (t *Tray) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Current returns the slug of the mode marked as mounted.
func (t *Tray) Current() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

func statusTitle(modes []mode.Mode, slug, message string) string {
	if slug == "" {
		return "Idle"
	}
	title := slug
	for _, m := range modes {
		if m.Slug == slug {
			title = m.Title
			break
		}
	}
	if message == "" {
		return title
	}
	return title + ": " + message
}
