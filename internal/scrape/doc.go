// Package scrape holds the worker-side half of a job: the request file the
// launcher hands to the worker binary, the fetchers that retrieve a page, the
// table extraction over the fetched HTML, and the raw JSON artifact written
// for the converter.
package scrape
