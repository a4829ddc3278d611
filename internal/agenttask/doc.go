// Package agenttask manages delegated agent work: lifecycle state,
// external dispatch by reference (issue in a dispatch repo), and
// correlation of incoming PRs back to the task that produced them.
package agenttask
