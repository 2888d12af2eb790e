// Package testutil contains test doubles used across packages to reduce
// boilerplate: a scripted Executor that drives the mail protocol from a
// handler function, and a ScriptedModel whose answers come from a callback.
// They are not intended for production usage.
package testutil
