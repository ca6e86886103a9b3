// Package unranked holds the season state of the Unranked Challenge: proposed
// ideas with their votes, and self-reported member scores.
//
// Ideas and Scores are plain single-owner types. Engine is the actor that owns
// one of each, serializes every command through a channel and saves the
// affected store after each mutation.
package unranked
