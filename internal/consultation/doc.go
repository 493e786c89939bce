// Package consultation defines the persisted consultation record, derives
// structured patient data from a summarized consultation, and talks to the
// external persistence collaborator.
package consultation
