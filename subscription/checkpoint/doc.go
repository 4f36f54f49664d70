// Package checkpoint exposes the Store interface, used to durably record
// the progress of a subscription, so that it can survive application
// restarts without reprocessing events it already acknowledged.
package checkpoint
