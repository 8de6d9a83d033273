// Package tree holds the pieces shared by the paged tree flavors: the
// generic Node type and its page codec, the metadata page, the tree
// configuration, and Store, which pins nodes through a page cache.
//
// Node payload layout:
//
//	[flag u8][reserved u8][count u16][parent u32] count × entry
//
// Page 0 of every tree file holds the metadata page; nodes start at page 1.
package tree
