// Package schema loads resource type definitions written in CUE.
//
// A schema file declares every resource type the service accepts:
//
//	resource: articles: {
//		attributes: {
//			title: string
//			views: int
//		}
//		relationships: {
//			author: {type: "people"}
//			tags: {type: "tags", many: true}
//		}
//	}
//
// Attribute kinds may be written as CUE types (string, int, number, bool,
// [...], {...}, _) or as their names in quotes ("string", "any").
// The store uses a Schema to reject unknown members and mistyped values; the
// document serializer uses it to order members.
package schema
