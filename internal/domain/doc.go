// Package domain contains the core business entities, value objects, and
// domain logic of the application: tasks moving through the lifecycle state
// machine and the provider configurations their pipelines execute against.
// It is independent of any specific infrastructure or delivery mechanism.
package domain
