// Package services defines the [WorkItemService] interface and implements it over the work item
// tracking REST API.
//
// # Client
//
// [Client] wraps an [http.Client] whose transport authenticates every request, either with a
// personal access token (basic auth, empty user) or a bearer token through [oauth2.NewClient].
// A [rate.Limiter] shared by all goroutines paces requests to requests_per_second.
//
// Each method performs one remote call (or one per chunk/page) and never retries; the retry
// executor in the retry package wraps calls from the engine.
//
// # Batch Writes
//
// [CreateRequest] and [UpdateRequest] build the entries of a $batch call. The service answers
// with a list of responses whose length is not guaranteed to match the request count; callers
// reconcile them.
//
// # Paging
//
// [QueryPager] walks a WIQL query past the flat result cap by ordering on
// (System.Watermark, System.Id) and restarting after the last pair seen. [QueryAll] collects
// every page.
//
// # Attachments
//
// Downloads are bounded by a maximum size. Uploads above one chunk use the chunked protocol:
// create a reference with uploadType=chunked, then PUT each range with a Content-Range header.
//
// # Error Handling
//
// Non-2xx replies become [*APIError], which carries the HTTP status and the vendor code
// (TF/VS prefix) parsed from the message. APIError matches with errors.Is:
//   - [shared.ErrAPIRequest] : any failed request
//   - [shared.ErrWorkItemNotFound] : status 404
//   - [shared.ErrServiceUnavailable] : status 503
package services
