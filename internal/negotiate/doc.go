// Package negotiate obtains session grants from the agent backend over
// HTTP. Negotiation happens once per session, before the audio channel is
// dialed: the client posts the desired session options and receives the
// session identifier and channel endpoint in return. Transient failures are
// retried with exponential backoff.
package negotiate
