// Package conversation drives every exchange between a user and almanac.
//
// # Overview
//
// The Orchestrator is the single conversation brain: each frontend hands it
// new conversations through the frontend.Bot hook, and it answers them using
// the NLP classifier, the calendar accessors, and the settings store. It is
// written only against the frontend contract, so terminal, Slack, Matrix,
// and webchat users all get identical behavior.
//
// # Lifecycle
//
// A conversation starts when a frontend delivers a message for a user with
// no running handler:
//
//	orch := conversation.New(classifier, store, futures, opts, logger)
//	orch.Attach(bot) // bot.OnConverse(orch.Converse)
//
// Converse classifies the opening message and dispatches on the result:
//
//   - greeting / bye / thanks: fixed replies, conversation ends
//   - show_calendar: list the rest of today's events
//   - schedule_meeting: multi-turn title and time gathering, then booking
//   - setup_calendar: force the settings flow even when already configured
//   - help and anything unrecognized: fixed replies
//
// Multi-turn handlers suspend in conv.Recv, which resumes on the user's
// next message. The configured reply timeout bounds that wait.
//
// # Settings gathering
//
// Calendar handlers that find no configured calendar mint a single-use token,
// send the user a settings link, and suspend on the future registry until the
// web form resolves it. The produced calendar configuration is persisted
// through the settings store before the handler continues.
//
// # Failure containment
//
// Collaborator failures (classifier, calendar, store) are caught in
// Converse: the user gets a short apology, the conversation ends, and the
// process keeps serving everyone else.
package conversation
