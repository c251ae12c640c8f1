// Package crawl researches documentation URLs for the agent pipeline.
//
// A Tool crawls each base URL through a Provider (the local colly crawler or a
// hosted crawl API), optionally snapshots the page text to a blob store, and
// summarizes every page with the LLM. The result maps page URL to summary;
// pages that failed to load map to "Error fetching <url>: <err>".
package crawl
