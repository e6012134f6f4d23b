// Package transform adapts the external geometry engine to a uniform
// contract. Every operation kind is a closed variant carrying its own typed
// arguments; the Invoker dispatches it to the Engine and normalizes whatever
// happens into one of three outcomes: an artifact, a valid empty result, or a
// failure message.
package transform
