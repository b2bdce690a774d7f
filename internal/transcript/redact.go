package transcript

import "context"

type redactingStore struct {
	Store
	redact func(string) string
}

// WithRedaction returns a Store that passes every record's content through
// redact before saving it.
func WithRedaction(s Store, redact func(string) string) Store {
	if redact == nil {
		return s
	}
	return &redactingStore{Store: s, redact: redact}
}

func (s *redactingStore) Save(ctx context.Context, records ...Record) error {
	masked := make([]Record, len(records))
	for i, r := range records {
		r.Content = s.redact(r.Content)
		masked[i] = r
	}
	return s.Store.Save(ctx, masked...)
}
