// Package auth guards the task API with static bearer API keys. Each key maps
// to a named caller and a set of permissions; requests are audit logged.
package auth
