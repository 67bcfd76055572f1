// Package pipeline drives a single website-to-PDF conversion job.
//
// A Job is built once at request entry and threaded through two strictly
// ordered stages: page acquisition and rendering. Progress for each stage is
// forwarded through its own progress.Channel so clients can tell the phases
// apart, and every job ends with exactly one terminal event, complete or
// error. Collaborators are consumed through the Acquirer and Renderer ports
// so each stage can be exercised with fakes.
package pipeline
