// Package x11 answers the window-system questions both hosts ask: where the
// pointer is, which window has focus, and where a named window sits on
// screen.
package x11

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/xrelay/internal/geometry"
	"github.com/bnema/xrelay/internal/logger"
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// ErrWindowNotFound is returned when no window carries the requested name.
var ErrWindowNotFound = errors.New("window not found")

// maxTreeDepth bounds the fallback window tree walk.
const maxTreeDepth = 8

// Display is a connection to the X server named by $DISPLAY.
type Display struct {
	conn *xgb.Conn
	root xproto.Window

	mu    sync.Mutex
	atoms map[string]xproto.Atom
}

// Dial connects to the default display.
func Dial() (*Display, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	logger.Debugf("Connected to X server, root window 0x%x (%dx%d)", screen.Root, screen.WidthInPixels, screen.HeightInPixels)

	return &Display{
		conn:  conn,
		root:  screen.Root,
		atoms: make(map[string]xproto.Atom),
	}, nil
}

// Close disconnects from the X server.
func (d *Display) Close() {
	d.conn.Close()
}

// Position returns the pointer position relative to the root window.
func (d *Display) Position() (int, int, error) {
	reply, err := xproto.QueryPointer(d.conn, d.root).Reply()
	if err != nil {
		return 0, 0, fmt.Errorf("query pointer: %w", err)
	}
	return int(reply.RootX), int(reply.RootY), nil
}

// WindowsByName returns the absolute geometry of every window whose title
// is exactly name, in stacking order of the window manager's client list.
func (d *Display) WindowsByName(name string) ([]geometry.Rect, error) {
	windows, err := d.clientWindows()
	if err != nil {
		return nil, err
	}

	var rects []geometry.Rect
	for _, w := range windows {
		if d.windowName(w) != name {
			continue
		}
		rect, err := d.absoluteGeometry(w)
		if err != nil {
			logger.Debugf("Skipping window 0x%x: %v", w, err)
			continue
		}
		rects = append(rects, rect)
	}
	return rects, nil
}

// FocusedNames returns the titles of the focused window and its ancestors,
// innermost first. Toolkits often focus an untitled child of the titled
// top-level window, hence the walk.
func (d *Display) FocusedNames() ([]string, error) {
	focus, err := xproto.GetInputFocus(d.conn).Reply()
	if err != nil {
		return nil, fmt.Errorf("get input focus: %w", err)
	}

	var names []string
	w := focus.Focus
	for depth := 0; depth < maxTreeDepth; depth++ {
		if w == xproto.WindowNone || w == xproto.InputFocusPointerRoot || w == d.root {
			break
		}
		if name := d.windowName(w); name != "" {
			names = append(names, name)
		}
		tree, err := xproto.QueryTree(d.conn, w).Reply()
		if err != nil {
			return names, fmt.Errorf("query tree of 0x%x: %w", w, err)
		}
		w = tree.Parent
	}
	return names, nil
}

func (d *Display) clientWindows() ([]xproto.Window, error) {
	atom, err := d.atom("_NET_CLIENT_LIST")
	if err == nil && atom != xproto.AtomNone {
		prop, err := xproto.GetProperty(d.conn, false, d.root, atom, xproto.AtomWindow, 0, 1<<16).Reply()
		if err == nil && prop.Format == 32 && len(prop.Value) > 0 {
			windows := make([]xproto.Window, 0, len(prop.Value)/4)
			for i := 0; i+4 <= len(prop.Value); i += 4 {
				windows = append(windows, xproto.Window(xgb.Get32(prop.Value[i:])))
			}
			return windows, nil
		}
	}

	// No EWMH window manager; fall back to walking the tree.
	var windows []xproto.Window
	if err := d.walk(d.root, 0, &windows); err != nil {
		return nil, err
	}
	return windows, nil
}

func (d *Display) walk(w xproto.Window, depth int, out *[]xproto.Window) error {
	if depth >= maxTreeDepth {
		return nil
	}
	tree, err := xproto.QueryTree(d.conn, w).Reply()
	if err != nil {
		return fmt.Errorf("query tree of 0x%x: %w", w, err)
	}
	for _, child := range tree.Children {
		*out = append(*out, child)
		if err := d.walk(child, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

func (d *Display) windowName(w xproto.Window) string {
	if atom, err := d.atom("_NET_WM_NAME"); err == nil && atom != xproto.AtomNone {
		if name := d.stringProperty(w, atom); name != "" {
			return name
		}
	}
	return d.stringProperty(w, xproto.AtomWmName)
}

func (d *Display) stringProperty(w xproto.Window, atom xproto.Atom) string {
	prop, err := xproto.GetProperty(d.conn, false, w, atom, xproto.GetPropertyTypeAny, 0, 256).Reply()
	if err != nil || prop.Format != 8 {
		return ""
	}
	return string(prop.Value)
}

func (d *Display) absoluteGeometry(w xproto.Window) (geometry.Rect, error) {
	geom, err := xproto.GetGeometry(d.conn, xproto.Drawable(w)).Reply()
	if err != nil {
		return geometry.Rect{}, fmt.Errorf("get geometry: %w", err)
	}
	pos, err := xproto.TranslateCoordinates(d.conn, w, d.root, 0, 0).Reply()
	if err != nil {
		return geometry.Rect{}, fmt.Errorf("translate coordinates: %w", err)
	}
	return geometry.Rect{
		X:      int(pos.DstX),
		Y:      int(pos.DstY),
		Width:  int(geom.Width),
		Height: int(geom.Height),
	}, nil
}

func (d *Display) atom(name string) (xproto.Atom, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(d.conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		return xproto.AtomNone, fmt.Errorf("intern atom %s: %w", name, err)
	}
	d.atoms[name] = reply.Atom
	return reply.Atom, nil
}
