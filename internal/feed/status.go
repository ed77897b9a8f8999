package feed

import "fmt"

// StatusReporter derives progress text from the controller's cursor.
type StatusReporter struct {
	Tag string
}

// Loading is shown before the index arrives.
func (r StatusReporter) Loading() string {
	return "Loading..."
}

// Found is shown once the index is parsed, before the first batch.
func (r StatusReporter) Found(total int) string {
	return fmt.Sprintf("Found %d items for %q. Loading...", total, r.Tag)
}

// Progress reports how far the cursor has advanced.
func (r StatusReporter) Progress(next, total int) string {
	if next >= total {
		return r.Complete(total)
	}
	return fmt.Sprintf("Loaded %d of %d. Scroll for more...", next, total)
}

// Complete is shown once every item has been rendered.
func (r StatusReporter) Complete(total int) string {
	return fmt.Sprintf("All %d loaded for %q.", total, r.Tag)
}

// Empty is shown when the index lists nothing.
func (r StatusReporter) Empty() string {
	return fmt.Sprintf("No items found for tag: %s", r.Tag)
}

// Failed is shown when the index cannot be loaded.
func (r StatusReporter) Failed() string {
	return "Error loading tag feed."
}

// MissingTag is shown when no collection identifier was configured.
func (r StatusReporter) MissingTag() string {
	return "No tag specified."
}
