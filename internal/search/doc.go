// Package search implements the catalog term-search core: term parsing,
// region resolution, the tiered product fetch pipeline, payload extraction
// into canonical product records, and concurrent batch processing.
package search
