// Package codehost abstracts the code-hosting provider behind a small
// capability set: list a user's PRs, read details/checks/reviews, request
// reviews, merge, and open issues for agent dispatch. Two implementations
// exist: an in-memory fixture and a live GitHub client.
package codehost
