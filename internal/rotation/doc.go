// Package rotation implements the tower-of-Hanoi level schedule.
//
// Every run increments a counter kept at the destination. The counter maps
// to the level that run writes: level k is written when the counter has
// exactly k trailing one-bits, so level 0 is written every other run,
// level 1 every fourth, level 2 every eighth, and so on. The deepest level
// absorbs every longer run of ones, which gives it a period of 2^(M-1) for
// M levels.
//
// The math is pure. The only state is the counter file, handled by
// Counter, which is committed after a successful sync and never before.
package rotation
