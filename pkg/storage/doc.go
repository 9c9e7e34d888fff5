// Package storage contains types and interfaces, so that different instance stores can be plugged into the engine.
//
// Interfaces in this package must:
//   - return ErrNotFound if the method is looking for one exact item and it is not found
//   - return empty array for methods that can return multiple results and no result is found
package storage
