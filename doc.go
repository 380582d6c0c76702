// # Media Session Core for a Camera/Microphone Demo Page
//
// This package reconciles user intents on a capture page (request camera or microphone access, switch camera, mute or unmute, take a screenshot) with asynchronous, fallible device access. A PermissionCoordinator owns the permission statuses and the request protocol; a CaptureSessionController owns mute state, the bound live stream and the captured image. A Page wires both to the host media service, the frame capturer, an analytics sink and a speech transcriber.
package mediasession
