package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrResponseShape reports that the usage payload was parseable JSON but the
// schema could not locate the required fields. Callers treat it as "fall back
// to scraping", not as fatal.
var ErrResponseShape = errors.New("usage payload does not match schema")

// Normalizer converts raw endpoint payloads into Snapshots.
type Normalizer struct {
	schema *Schema
	now    func() time.Time
}

func NewNormalizer(schema *Schema) *Normalizer {
	return &Normalizer{schema: schema, now: time.Now}
}

// Normalize builds a Snapshot from the usage payload plus the optional
// credits and overage payloads. creditsJSON and overageJSON may be nil;
// their absence or unparseability never fails the call.
func (n *Normalizer) Normalize(usageJSON, creditsJSON, overageJSON []byte) (*Snapshot, error) {
	var doc map[string]any
	if err := json.Unmarshal(usageJSON, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseShape, err)
	}

	sessionPct, okSession := firstFloat(doc, n.schema.Usage.SessionPercent)
	weekPct, okWeek := firstFloat(doc, n.schema.Usage.WeekPercent)
	if !okSession || !okWeek {
		return nil, fmt.Errorf("%w: missing utilization fields", ErrResponseShape)
	}

	now := n.now()
	snap := &Snapshot{
		SessionPercent: clampPercent(sessionPct),
		WeekPercent:    clampPercent(weekPct),
		CapturedAt:     now,
		Raw:            json.RawMessage(usageJSON),
	}

	if raw, ok := firstString(doc, n.schema.Usage.SessionResets); ok {
		snap.SessionResetsAt = parseISO(raw)
	}
	if raw, ok := firstString(doc, n.schema.Usage.WeekResets); ok {
		snap.WeekResetsAt = parseISO(raw)
	}
	snap.SessionReset = FormatReset(now, snap.SessionResetsAt)
	snap.WeekReset = FormatReset(now, snap.WeekResetsAt)

	tiers := map[ModelTier][]string{
		TierOpus:   n.schema.Usage.OpusPercent,
		TierSonnet: n.schema.Usage.SonnetPercent,
	}
	for tier, paths := range tiers {
		if pct, ok := firstFloat(doc, paths); ok {
			if snap.ModelPercents == nil {
				snap.ModelPercents = make(map[ModelTier]float64, 2)
			}
			snap.ModelPercents[tier] = clampPercent(pct)
		}
	}

	snap.Credits = n.normalizeCredits(creditsJSON)
	snap.Overage = n.normalizeOverage(overageJSON, doc)
	return snap, nil
}

func (n *Normalizer) normalizeCredits(data []byte) *Credits {
	doc := parseObject(data)
	if doc == nil {
		return nil
	}
	amount, ok := firstFloat(doc, n.schema.Credits.Amount)
	if !ok {
		return nil
	}
	c := &Credits{Amount: amount / 100.0, Currency: "USD"}
	if cur, ok := firstString(doc, n.schema.Credits.Currency); ok {
		c.Currency = strings.ToUpper(cur)
	}
	return c
}

// normalizeOverage reads the overage payload, falling back to the inline
// block some usage payload versions carry.
func (n *Normalizer) normalizeOverage(data []byte, usageDoc map[string]any) *Overage {
	doc := parseObject(data)
	if doc == nil {
		doc = usageDoc
	}
	used, okUsed := firstFloat(doc, n.schema.Overage.Used)
	limit, okLimit := firstFloat(doc, n.schema.Overage.Limit)
	if !okUsed || !okLimit || limit <= 0 {
		return nil
	}
	o := &Overage{
		Used:     used / 100.0,
		Limit:    limit / 100.0,
		Percent:  clampPercent(used / limit * 100),
		Currency: "USD",
	}
	if cur, ok := firstString(doc, n.schema.Overage.Currency); ok {
		o.Currency = strings.ToUpper(cur)
	}
	return o
}

func parseObject(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func parseISO(raw string) *time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
