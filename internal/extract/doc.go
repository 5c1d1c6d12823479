// Package extract turns URLs into markdown. The Gateway asks the primary
// reader backend first, waits and retries for domains that need time to
// settle, treats bot-check and error pages as soft failures, and falls back to
// the secondary scrape backend. Screenshots are captured alongside and never
// decide the outcome.
package extract
