// Package crawl holds the shared data model and collaborator interfaces of
// the career-page crawler: tasks, identities, fetch results, posting fields,
// fingerprints, selector patterns, and the external services the pipeline
// composes (extraction, job-board search, persistence, publishing).
package crawl
