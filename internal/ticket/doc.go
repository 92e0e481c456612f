// Package ticket defines the complaint-triage domain: the Ticket lifecycle
// model, the TriageResult and UpdateEvent value objects, the Store interface
// (persistence with the atomic claim operation), and field validation.
package ticket
