// Package crawler holds the crawl and classification pipeline: the shared
// domain types, the collaborator interfaces, and the Orchestrator that drives
// a URL from extraction through model classification to a persisted result.
package crawler
