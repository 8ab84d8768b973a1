package patternstore

var (
	_ PatternStore = (*Postgres)(nil)
	_ PatternStore = (*Memory)(nil)
)
