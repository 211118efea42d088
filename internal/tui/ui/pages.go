package ui

import "github.com/rivo/tview"

// Pages is a stack-based page manager wrapping tview.Pages. Each entry
// carries a label for the breadcrumb bar.
type Pages struct {
	*tview.Pages
	stack    []entry
	onChange func(labels []string)
}

type entry struct {
	name  string
	label string
}

// NewPages creates a new stack-based page manager.
func NewPages() *Pages {
	return &Pages{
		Pages: tview.NewPages(),
	}
}

// SetOnChange sets a callback that fires with the stack labels whenever the
// stack changes.
func (p *Pages) SetOnChange(fn func(labels []string)) {
	p.onChange = fn
}

// Push shows the page on top of the stack. Pushing the page already on top
// only updates its label.
func (p *Pages) Push(name, label string) {
	if n := len(p.stack); n > 0 {
		if p.stack[n-1].name == name {
			p.stack[n-1].label = label
			p.notify()
			return
		}
		p.HidePage(p.stack[n-1].name)
	}
	p.stack = append(p.stack, entry{name: name, label: label})
	p.ShowPage(name)
	p.SendToFront(name)
	p.notify()
}

// Pop removes the top page and shows the previous one. The root page is never
// popped. Returns the name of the popped page, or empty.
func (p *Pages) Pop() string {
	if len(p.stack) <= 1 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top.name)
	p.stack = p.stack[:len(p.stack)-1]
	current := p.stack[len(p.stack)-1].name
	p.ShowPage(current)
	p.SendToFront(current)
	p.notify()
	return top.name
}

// Current returns the name of the top page.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1].name
}

// Contains reports whether name is anywhere on the stack.
func (p *Pages) Contains(name string) bool {
	for _, e := range p.stack {
		if e.name == name {
			return true
		}
	}
	return false
}

// Labels returns the stack labels, root first.
func (p *Pages) Labels() []string {
	labels := make([]string, len(p.stack))
	for i, e := range p.stack {
		labels[i] = e.label
	}
	return labels
}

// Reset clears the stack and shows only the given page.
func (p *Pages) Reset(name, label string) {
	for _, e := range p.stack {
		p.HidePage(e.name)
	}
	p.stack = []entry{{name: name, label: label}}
	p.ShowPage(name)
	p.SendToFront(name)
	p.notify()
}

func (p *Pages) notify() {
	if p.onChange != nil {
		p.onChange(p.Labels())
	}
}
